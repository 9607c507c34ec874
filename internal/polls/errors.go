package polls

import "errors"

// Kind classifies every error the service returns. Raw store errors never
// leave this package; they are logged and reported as KindStorage.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindInvalidInput
	KindDuplicate
	KindNotFound
	KindForbidden
	KindStorage
)

// Error carries a classification and a message safe to show to users.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// KindOf extracts the classification from an error, or KindStorage for
// anything this package did not produce.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

func unauthenticated(msg string) error { return &Error{Kind: KindUnauthenticated, Message: msg} }
func invalidInput(msg string) error    { return &Error{Kind: KindInvalidInput, Message: msg} }
func duplicate(msg string) error       { return &Error{Kind: KindDuplicate, Message: msg} }
func notFound(msg string) error        { return &Error{Kind: KindNotFound, Message: msg} }
func forbidden(msg string) error       { return &Error{Kind: KindForbidden, Message: msg} }

func storage() error {
	return &Error{Kind: KindStorage, Message: "Something went wrong. Please try again."}
}
