package engineer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/provider"
)

// Request is one engineer-prompt invocation.
type Request struct {
	UserInput string `json:"userInput" validate:"required,max=5000"`
	Model     string `json:"model,omitempty" validate:"omitempty,max=200"`
	Provider  string `json:"provider,omitempty" validate:"omitempty,oneof=gemini ollama"`
	Task      string `json:"task,omitempty" validate:"omitempty,oneof=engineer title"`
	ParentID  string `json:"parentId,omitempty" validate:"omitempty,uuid"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// invalidInput is the message for a missing, non-string or oversized idea.
var invalidInput = fmt.Sprintf("Input invalid or too long. Max %d characters.", prompt.MaxInputLength)

// DecodeRequest reads a JSON request body. A field of the wrong JSON type
// is a validation error, so a non-string userInput is rejected here.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "userInput" {
			return Request{}, apperr.New(apperr.Validation, "%s", invalidInput)
		}
		return Request{}, apperr.Wrap(apperr.Validation, err, "Invalid JSON body.")
	}
	return req, nil
}

// Validate checks req before any provider is contacted.
func (req Request) Validate() error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Wrap(apperr.Validation, err, "Invalid request.")
	}

	fe := verrs[0]
	switch fe.StructField() {
	case "UserInput":
		return apperr.New(apperr.Validation, "%s", invalidInput)
	case "Provider":
		_, perr := provider.ParseKind(req.Provider)
		return perr
	case "Task":
		_, terr := prompt.ParseTask(req.Task)
		return terr
	case "ParentID":
		return apperr.New(apperr.Validation, "Invalid parentId %q: must be a UUID.", req.ParentID)
	default:
		return apperr.New(apperr.Validation, "Invalid %s.", fe.Field())
	}
}
