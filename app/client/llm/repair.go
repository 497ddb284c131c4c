package llm

import (
	"context"
	"errors"
	"log/slog"

	"hearth/app/util/jsonx"
	"hearth/app/util/retry"

	"github.com/samber/oops"
)

const repairSystemPrompt = "You repair malformed JSON. Output only the corrected JSON value, " +
	"with no commentary and no code fences. Preserve every key and value that can be recovered."

// ErrMalformedJSON marks a reply that could not be decoded even after the
// repair call. Call failures are returned unwrapped.
var ErrMalformedJSON = errors.New("malformed json")

// Caller bundles a model with the shared retry policy.
type Caller struct {
	Model  Model
	Policy retry.Policy
}

// Text runs a single-prompt completion under the retry policy.
func (c Caller) Text(ctx context.Context, name, system, prompt string, jsonMode bool) (string, error) {
	return retry.Value(ctx, c.Policy, name, func(ctx context.Context) (string, error) {
		return Complete(ctx, c.Model, system, prompt, jsonMode)
	})
}

// JSON completes a prompt and decodes the reply into v. When the reply does
// not parse, one repair call is made before giving up.
func (c Caller) JSON(ctx context.Context, name, system, prompt string, v any) error {
	reply, err := c.Text(ctx, name, system, prompt, true)
	if err != nil {
		return err
	}

	decodeErr := jsonx.Decode(reply, v)
	if decodeErr == nil {
		return nil
	}

	slog.WarnContext(ctx, "Model returned malformed JSON, attempting repair",
		"call", name,
		"error", decodeErr,
	)

	repaired, err := c.Text(ctx, name+"_repair", repairSystemPrompt, jsonx.Payload(reply), true)
	if err != nil {
		return oops.With("call", name).Wrapf(err, "json repair call failed")
	}

	if err = jsonx.Decode(repaired, v); err != nil {
		return oops.With("call", name).Wrapf(errors.Join(ErrMalformedJSON, err), "json still malformed after repair")
	}

	return nil
}
