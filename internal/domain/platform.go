package domain

type PlatformType string

const (
	PlatformWeb       PlatformType = "web"
	PlatformDesktop   PlatformType = "desktop"
	PlatformMobile    PlatformType = "mobile"
	PlatformContainer PlatformType = "container"
)

func (p PlatformType) Valid() bool {
	switch p {
	case PlatformWeb, PlatformDesktop, PlatformMobile, PlatformContainer:
		return true
	}
	return false
}

const (
	CapabilityWorkers           = "workers"
	CapabilityLocalStorage      = "local_storage"
	CapabilityPersistentStorage = "persistent_storage"
	CapabilityFileSystemAccess  = "file_system_access"
	CapabilityNativeAPI         = "native_api"
	CapabilityCamera            = "camera"
	CapabilityGeolocation       = "geolocation"
	CapabilityPushNotifications = "push_notifications"
	CapabilityEphemeralFS       = "ephemeral_filesystem"
)

// PlatformDescriptor is a live fact about the current runtime. It is computed
// once per process and never trusted when read back from storage.
type PlatformDescriptor struct {
	Type         PlatformType      `json:"type" validate:"required,oneof=web desktop mobile container"`
	Details      map[string]string `json:"details"`
	Capabilities []string          `json:"capabilities"`
}

func (d PlatformDescriptor) Has(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (d PlatformDescriptor) Clone() PlatformDescriptor {
	out := PlatformDescriptor{Type: d.Type}
	if d.Details != nil {
		out.Details = make(map[string]string, len(d.Details))
		for k, v := range d.Details {
			out.Details[k] = v
		}
	}
	if d.Capabilities != nil {
		out.Capabilities = append([]string(nil), d.Capabilities...)
	}
	return out
}
