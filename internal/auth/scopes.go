package auth

// Known OAuth scopes used by the tracker API.
const (
	ScopeTrackingWrite   = "tracking:write"
	ScopeTrackingRead    = "tracking:read"
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesRead  = "activities:read"
)
