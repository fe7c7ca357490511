// Package signoff derives a pull request's commit status from where its
// linked cards currently sit on the board.
package signoff

// State is a GitHub commit status state.
type State string

const (
	Pending State = "pending"
	Success State = "success"
)

// Membership is the list a linked card currently sits in. ListID is empty
// when the card no longer exists.
type Membership struct {
	ListID string
}

// Verdict is the outcome of one status evaluation.
type Verdict struct {
	State     State
	Required  int
	SignedOff int
}

// Compute counts linked cards sitting in a registered list. No linked cards
// means no demonstrated signoff, so the result is Pending.
func Compute(cards []Membership, registered map[string]struct{}) Verdict {
	v := Verdict{State: Pending, Required: len(cards)}
	for _, c := range cards {
		if _, ok := registered[c.ListID]; ok && c.ListID != "" {
			v.SignedOff++
		}
	}
	if v.Required > 0 && v.SignedOff == v.Required {
		v.State = Success
	}
	return v
}

// Wording is the fixed text pushed alongside a state.
type Wording struct {
	Context            string
	PendingDescription string
	SuccessDescription string
}

var DefaultWording = Wording{
	Context:            "product-signoff",
	PendingDescription: "Awaiting product signoff",
	SuccessDescription: "Product signoff has been received",
}

func (w Wording) Description(s State) string {
	if s == Success {
		return w.SuccessDescription
	}
	return w.PendingDescription
}
