package shared

// TransitionRecorder counts committed document lifecycle transitions. The
// lifecycles call it after their transaction commits; a nil recorder is
// allowed and means transitions go uncounted.
type TransitionRecorder interface {
	RecordTransition(entity, action string)
}
