package audit

// Classify is the fixed severity table feature modules use when recording.
// Role and permission changes are not derivable from the pair alone; callers
// record those as SeverityHigh explicitly.
func Classify(entityType EntityType, action Action) Severity {
	switch entityType {
	case EntityTeamMember:
		if action == ActionDelete {
			return SeverityHigh
		}
	case EntityAPIKey:
		return SeverityHigh
	case EntitySettings:
		return SeverityMedium
	}
	if action == ActionDelete {
		return SeverityMedium
	}
	return SeverityLow
}
