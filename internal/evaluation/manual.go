package evaluation

// ManualField is one weight/score pair on the manual evaluation form.
type ManualField struct {
	Key   string
	Label string
	Group string
}

var ManualFields = []ManualField{
	{Key: "sales_volume", Label: "Sales by volume", Group: "Sales"},
	{Key: "sales_revenue", Label: "Sales by revenue", Group: "Sales"},
	{Key: "sales_diversity", Label: "Sales diversity", Group: "Sales"},
	{Key: "store_dimensions", Label: "Store dimensions", Group: "Store"},
	{Key: "street_visibility", Label: "Street frontage", Group: "Store"},
	{Key: "location_city", Label: "Urban or rural", Group: "Location"},
	{Key: "location_zone", Label: "Zone within city", Group: "Location"},
	{Key: "ownership_owner", Label: "Ownership (owner)", Group: "Ownership"},
	{Key: "ownership_rented", Label: "Ownership (rented)", Group: "Ownership"},
	{Key: "ownership_goodwill", Label: "Ownership (goodwill)", Group: "Ownership"},
	{Key: "cleanliness", Label: "Cleanliness and appearance", Group: "Presentation"},
	{Key: "equipment", Label: "Equipment", Group: "Presentation"},
	{Key: "luxury", Label: "Luxury goods present", Group: "Assortment"},
	{Key: "brand", Label: "Reputable brands present", Group: "Assortment"},
}

// ManualParams turns per-field weights into the numeric parameter set of the form.
func ManualParams(weights map[string]float64) []ParameterConfig {
	params := make([]ParameterConfig, 0, len(ManualFields))
	for _, f := range ManualFields {
		params = append(params, ParameterConfig{
			Name:     f.Key,
			Weight:   weights[f.Key],
			Kind:     KindNumeric,
			Required: true,
		})
	}
	return params
}
