package errs

// The set of error codes returned to clients. The names follow the gRPC
// status codes so that clients can reason about retryability.
var (
	OK                 = ErrCode{value: 0}
	NoContent          = ErrCode{value: 1}
	Canceled           = ErrCode{value: 2}
	Unknown            = ErrCode{value: 3}
	InvalidArgument    = ErrCode{value: 4}
	DeadlineExceeded   = ErrCode{value: 5}
	NotFound           = ErrCode{value: 6}
	AlreadyExists      = ErrCode{value: 7}
	PermissionDenied   = ErrCode{value: 8}
	ResourceExhausted  = ErrCode{value: 9}
	FailedPrecondition = ErrCode{value: 10}
	Aborted            = ErrCode{value: 11}
	OutOfRange         = ErrCode{value: 12}
	Unimplemented      = ErrCode{value: 13}
	Internal           = ErrCode{value: 14}
	Unavailable        = ErrCode{value: 15}
	DataLoss           = ErrCode{value: 16}
	Unauthenticated    = ErrCode{value: 17}
	// InternalOnlyLog is logged with full detail and reported to the client
	// as a plain internal error.
	InternalOnlyLog = ErrCode{value: 18}
)

var codeNumbers = map[string]ErrCode{
	"ok":                  OK,
	"no_content":          NoContent,
	"canceled":            Canceled,
	"unknown":             Unknown,
	"invalid_argument":    InvalidArgument,
	"deadline_exceeded":   DeadlineExceeded,
	"not_found":           NotFound,
	"already_exists":      AlreadyExists,
	"permission_denied":   PermissionDenied,
	"resource_exhausted":  ResourceExhausted,
	"failed_precondition": FailedPrecondition,
	"aborted":             Aborted,
	"out_of_range":        OutOfRange,
	"unimplemented":       Unimplemented,
	"internal":            Internal,
	"unavailable":         Unavailable,
	"data_loss":           DataLoss,
	"unauthenticated":     Unauthenticated,
	"internal_only_log":   InternalOnlyLog,
}

var codeNames map[ErrCode]string

func init() {
	codeNames = make(map[ErrCode]string, len(codeNumbers))
	for k, v := range codeNumbers {
		codeNames[v] = k
	}
}
