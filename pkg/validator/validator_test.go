package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Action string `json:"action" validate:"required,oneof=get set"`
	Key    string `json:"key" validate:"omitempty,notblank,max=8"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(testPayload{Action: "get", Key: "logo"}))
	require.NoError(t, ValidateStruct(testPayload{Action: "set"}))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(testPayload{Action: "drop", Key: "   ", Limit: -1})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "oneof", fields["action"])
	require.Equal(t, "notblank", fields["key"])
	require.Equal(t, "gte", fields["limit"])
	require.Contains(t, err.Error(), "action failed on oneof=get set")
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("shopkv", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "shopkv"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"shopkv"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "shopkv"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
