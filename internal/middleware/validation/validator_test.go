package validation

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userForm struct {
	Username string `form:"username" validate:"notblank,max=80"`
	Role     string `form:"role" validate:"role"`
	Email    string `form:"email" validate:"omitempty,email"`
}

func TestStructCollectsFieldErrors(t *testing.T) {
	err := Struct(&userForm{Username: "  ", Role: "guest", Email: "nope"})
	require.Error(t, err)

	var fe *FormError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "this field cannot be blank", fe.Fields["username"])
	assert.Equal(t, "must be one of admin, marketer, observer", fe.Fields["role"])
	assert.Contains(t, fe.Fields, "email")
	assert.Contains(t, fe.Error(), "role: ")

	assert.NoError(t, Struct(&userForm{Username: "ali", Role: "marketer"}))
}

func TestVarNumeric(t *testing.T) {
	err := Var("sales_volume_weight", "abc", "required,numeric")
	var fe *FormError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "must be a valid numeric value", fe.Fields["sales_volume_weight"])

	err = Var("sales_volume_score", "", "required,numeric")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "is a required field", fe.Fields["sales_volume_score"])

	assert.NoError(t, Var("sales_volume_weight", "-2.5", "required,numeric"))
}

func TestBindCoordinates(t *testing.T) {
	app := fiber.New()
	app.Post("/loc", func(c *fiber.Ctx) error {
		var body Coordinates
		if err := Bind(c, &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"lat": *body.Latitude})
	})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "valid", body: `{"latitude":35.7,"longitude":51.4}`, status: fiber.StatusOK},
		{name: "zero is valid", body: `{"latitude":0,"longitude":0}`, status: fiber.StatusOK},
		{name: "out of range", body: `{"latitude":95,"longitude":51.4}`, status: fiber.StatusBadRequest},
		{name: "missing", body: `{"latitude":35.7}`, status: fiber.StatusBadRequest},
		{name: "malformed", body: `{"latitude":`, status: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/loc", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
