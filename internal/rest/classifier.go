package rest

// Classification is the outcome category of a backend response.
type Classification int

const (
	OK Classification = iota
	Unauthenticated
	InvalidRequest
	AlreadyExists
	NotFound
	ServerError
	// Unexpected is any status the classifier does not recognise.
	Unexpected
)

func (c Classification) String() string {
	switch c {
	case OK:
		return "ok"
	case Unauthenticated:
		return "unauthenticated"
	case InvalidRequest:
		return "invalid_request"
	case AlreadyExists:
		return "already_exists"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	default:
		return "unexpected"
	}
}

// Classifier maps a backend response to a Classification. Implementations must
// be pure functions of their input.
type Classifier interface {
	Classify(status int, body []byte) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(status int, body []byte) Classification

func (f ClassifierFunc) Classify(status int, body []byte) Classification { return f(status, body) }

// StatusClassifier classifies by status code tables. Unauthenticated and
// server error are checked before the other tables.
type StatusClassifier struct {
	OK              []int
	Unauthenticated []int
	InvalidRequest  []int
	AlreadyExists   []int
	NotFound        []int
	// ServerErrorMin and ServerErrorMax bound the inclusive server error range.
	ServerErrorMin int
	ServerErrorMax int
}

// DefaultStatusClassifier returns the table used by SCIM-style backends.
func DefaultStatusClassifier() StatusClassifier {
	return StatusClassifier{
		OK:              []int{200, 201, 204},
		Unauthenticated: []int{401},
		InvalidRequest:  []int{400},
		AlreadyExists:   []int{409},
		NotFound:        []int{404},
		ServerErrorMin:  500,
		ServerErrorMax:  599,
	}
}

func (c StatusClassifier) Classify(status int, _ []byte) Classification {
	switch {
	case contains(c.Unauthenticated, status):
		return Unauthenticated
	case c.ServerErrorMax > 0 && status >= c.ServerErrorMin && status <= c.ServerErrorMax:
		return ServerError
	case contains(c.OK, status):
		return OK
	case contains(c.AlreadyExists, status):
		return AlreadyExists
	case contains(c.InvalidRequest, status):
		return InvalidRequest
	case contains(c.NotFound, status):
		return NotFound
	}
	return Unexpected
}

func contains(codes []int, status int) bool {
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}
