package presence

import "errors"

var (
	ErrUnauthenticated     = errors.New("connection is not authenticated")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotAMember          = errors.New("connection has not joined the room")
	ErrEmptyContent        = errors.New("message content is empty")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrNotFound            = errors.New("connection not found")
	ErrAuthFailed          = errors.New("invalid or expired token")
	ErrDeliveryFailure     = errors.New("delivery to connection failed")
	ErrForbidden           = errors.New("not allowed to manage the room")
)

// Error kinds as they appear in error events.
const (
	KindUnauthenticated     = "unauthenticated"
	KindRoomNotFound        = "room_not_found"
	KindNotAMember          = "not_a_member"
	KindEmptyContent        = "empty_content"
	KindDuplicateConnection = "duplicate_connection"
	KindNotFound            = "not_found"
	KindAuthError           = "auth_error"
	KindDeliveryFailure     = "delivery_failure"
	KindForbidden           = "forbidden"
	KindInternal            = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrRoomNotFound, KindRoomNotFound},
	{ErrNotAMember, KindNotAMember},
	{ErrEmptyContent, KindEmptyContent},
	{ErrDuplicateConnection, KindDuplicateConnection},
	{ErrNotFound, KindNotFound},
	{ErrAuthFailed, KindAuthError},
	{ErrDeliveryFailure, KindDeliveryFailure},
	{ErrForbidden, KindForbidden},
}

// Kind maps err to the failure kind reported to clients. Errors outside the
// taxonomy, such as a collaborator outage, report as internal.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
