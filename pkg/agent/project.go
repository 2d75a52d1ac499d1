package agent

import (
	"fmt"

	"github.com/tablepilot/tablepilot/pkg/domain"
)

// reason identifies a termination path of the reasoning loop.
type reason int

const (
	reasonFinalAnswer reason = iota
	reasonStepLimit
	reasonParseFailure
	reasonProviderError
	reasonRepetition
)

// termination captures why the loop stopped and what it produced.
type termination struct {
	reason reason
	answer string
	chart  *domain.Chart
	detail string
}

// project maps every termination path onto exactly one envelope shape. Pure;
// never panics. The success flag and error text are mutually consistent.
func project(t termination) *domain.ResponseEnvelope {
	switch t.reason {
	case reasonFinalAnswer:
		return &domain.ResponseEnvelope{
			Success:  true,
			Response: t.answer,
			Chart:    t.chart,
		}
	case reasonStepLimit:
		return failure("I could not complete the analysis within the step limit. Try simplifying or splitting the question.")
	case reasonParseFailure:
		return failure(fmt.Sprintf("The model's output could not be interpreted. %s", t.detail))
	case reasonProviderError:
		return failure(fmt.Sprintf("The analysis could not be completed: %s", t.detail))
	case reasonRepetition:
		return failure("Loop detected, stopping execution. Please review the request.")
	default:
		return failure("The analysis terminated for an unknown reason.")
	}
}

func failure(msg string) *domain.ResponseEnvelope {
	return &domain.ResponseEnvelope{
		Success:  false,
		Response: msg,
		Error:    msg,
	}
}
