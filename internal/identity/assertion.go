package identity

// Assertion is a verified claim from the authentication broker that ExternalID at
// Provider belongs to the requester.
type Assertion struct {
	Provider    string
	ExternalID  string
	Email       string
	DisplayName string
}

// ProviderError is a failure reported by the broker. Message is shown to the user as-is.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// Result is the broker's answer for one login attempt. Exactly one of Assertion and
// Err is set.
type Result struct {
	Assertion *Assertion
	Err       *ProviderError
}

// Succeeded wraps a verified assertion
func Succeeded(a Assertion) Result {
	return Result{Assertion: &a}
}

// Failed wraps a broker failure
func Failed(message string) Result {
	return Result{Err: &ProviderError{Message: message}}
}

func (r Result) failureMessage() string {
	if r.Err != nil {
		return r.Err.Message
	}
	return "Authentication failed."
}
