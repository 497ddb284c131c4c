package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

var (
	ErrNoRoom      = errors.New("tool called outside a room")
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeArgs unmarshals the JSON arguments into v and validates it.
func decodeArgs(input string, v any) error {
	input = strings.TrimSpace(input)
	if input == "" {
		input = "{}"
	}

	if err := json.Unmarshal([]byte(input), v); err != nil {
		return oops.Wrapf(errors.Join(ErrInvalidArgs, err), "decode arguments")
	}

	if err := validate.Struct(v); err != nil {
		return oops.Wrapf(errors.Join(ErrInvalidArgs, err), "validate arguments")
	}

	return nil
}
