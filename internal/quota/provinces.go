package quota

import "github.com/fieldsales/backend/internal/storage/models"

// DefaultProvinces holds the 2016 census population of each province.
var DefaultProvinces = []models.Province{
	{Name: "Tehran", Population: 13267637},
	{Name: "Razavi Khorasan", Population: 6434501},
	{Name: "Isfahan", Population: 5120850},
	{Name: "Fars", Population: 4851274},
	{Name: "Khuzestan", Population: 4710509},
	{Name: "East Azerbaijan", Population: 3909652},
	{Name: "Mazandaran", Population: 3283582},
	{Name: "West Azerbaijan", Population: 3265219},
	{Name: "Kerman", Population: 3164718},
	{Name: "Sistan and Baluchestan", Population: 2775014},
	{Name: "Alborz", Population: 2712400},
	{Name: "Gilan", Population: 2530696},
	{Name: "Kermanshah", Population: 1952434},
	{Name: "Golestan", Population: 1868819},
	{Name: "Hormozgan", Population: 1776415},
	{Name: "Lorestan", Population: 1760649},
	{Name: "Hamadan", Population: 1738234},
	{Name: "Kurdistan", Population: 1603011},
	{Name: "Markazi", Population: 1429475},
	{Name: "Qom", Population: 1292283},
	{Name: "Qazvin", Population: 1273761},
	{Name: "Ardabil", Population: 1270420},
	{Name: "Bushehr", Population: 1163400},
	{Name: "Yazd", Population: 1138533},
	{Name: "Zanjan", Population: 1057461},
	{Name: "Chaharmahal and Bakhtiari", Population: 947763},
	{Name: "North Khorasan", Population: 863092},
	{Name: "South Khorasan", Population: 768898},
	{Name: "Kohgiluyeh and Boyer-Ahmad", Population: 713052},
	{Name: "Semnan", Population: 702360},
	{Name: "Ilam", Population: 580158},
}
