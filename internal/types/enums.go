package types

// RenderStatus enumerates all valid states for a recorded render.
// These values MUST match the CHECK constraint in the renders table.
type RenderStatus string

const (
	RenderStatusPending   RenderStatus = "pending"
	RenderStatusSucceeded RenderStatus = "succeeded"
	RenderStatusFailed    RenderStatus = "failed"
)

// DeviceClass identifies the rendering target device axis of a render context.
// Documents may carry visibility predicates keyed on these values; the set is
// open-ended (predicates compare raw strings), these are the conventional ones.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceDesktop DeviceClass = "desktop"
	DeviceTablet  DeviceClass = "tablet"
)

// RenderJobSource identifies where a queued render job originated.
type RenderJobSource string

const (
	JobSourceAPI       RenderJobSource = "api"
	JobSourceScheduled RenderJobSource = "scheduled"
)
