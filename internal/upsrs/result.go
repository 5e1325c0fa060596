package upsrs

// Result is the outcome of one workitem or subscription operation: either a
// payload (a JSON object as map[string]interface{} or a JSON array as
// []interface{}) or an *Error.
type Result struct {
	Payload    interface{}
	Err        *Error
	StatusCode int
	Attempts   int
}

func succeeded(payload interface{}, status, attempts int) Result {
	return Result{Payload: payload, StatusCode: status, Attempts: attempts}
}

func failed(err *Error, attempts int) Result {
	return Result{Err: err, StatusCode: err.StatusCode, Attempts: attempts}
}

// OK reports whether the operation succeeded
func (r Result) OK() bool {
	return r.Err == nil
}

// Map returns the payload as a JSON object, or nil if it is not one
func (r Result) Map() map[string]interface{} {
	m, _ := r.Payload.(map[string]interface{})
	return m
}

// List returns the payload as a JSON array, or nil if it is not one
func (r Result) List() []interface{} {
	l, _ := r.Payload.([]interface{})
	return l
}

// String returns a string field of a map payload
func (r Result) String(key string) string {
	s, _ := r.Map()[key].(string)
	return s
}

// Tuple returns the two-part form: the success flag and either the payload
// or the diagnostic message.
func (r Result) Tuple() (bool, interface{}) {
	if r.Err != nil {
		return false, r.Err.Message
	}
	return true, r.Payload
}

// AsError returns the failure as an error, or nil on success
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}
