package domain

// The closed catalog of event types the engine emits. The registry and the
// router validate against the same list, so a subscription can never
// reference an event type that will never fire.
const (
	EventCardCreated         = "card.created"
	EventCardUpdated         = "card.updated"
	EventCardMoved           = "card.moved"
	EventCardDeleted         = "card.deleted"
	EventCardCommentAdded    = "card.comment_added"
	EventProjectCreated      = "project.created"
	EventProjectUpdated      = "project.updated"
	EventProjectDeadline     = "project.deadline_approaching"
	EventTeamMemberAdded     = "team.member_added"
	EventTeamMemberRemoved   = "team.member_removed"
	EventReportGenerated     = "report.generated"
)

var eventCatalog = map[string]struct{}{
	EventCardCreated:       {},
	EventCardUpdated:       {},
	EventCardMoved:         {},
	EventCardDeleted:       {},
	EventCardCommentAdded:  {},
	EventProjectCreated:    {},
	EventProjectUpdated:    {},
	EventProjectDeadline:   {},
	EventTeamMemberAdded:   {},
	EventTeamMemberRemoved: {},
	EventReportGenerated:   {},
}

// KnownEventType reports whether eventType is part of the catalog.
func KnownEventType(eventType string) bool {
	_, ok := eventCatalog[eventType]
	return ok
}

// EventTypes returns the full catalog. The result is a fresh slice; callers
// may sort or mutate it.
func EventTypes() []string {
	types := make([]string, 0, len(eventCatalog))
	for et := range eventCatalog {
		types = append(types, et)
	}
	return types
}
