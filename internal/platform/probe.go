// Package platform classifies the runtime a process is executing in and
// enumerates what that runtime can do.
package platform

import (
	"log"
	"strings"

	"statebridge/internal/domain"
)

const (
	// EnvShell lets a packaging shell (desktop wrapper, mobile bridge) announce itself.
	EnvShell = "STATEBRIDGE_SHELL"
	// EnvDisabledCapabilities is a comma separated list of capability tags to omit.
	EnvDisabledCapabilities = "STATEBRIDGE_DISABLED_CAPABILITIES"
	// EnvUserAgent carries the browser user agent when the engine backs a web session.
	EnvUserAgent = "STATEBRIDGE_USER_AGENT"
	// EnvDataDir overrides the persistent data directory.
	EnvDataDir = "STATEBRIDGE_DATA_DIR"
)

type Probe struct {
	rt Runtime
}

func NewProbe(rt Runtime) *Probe {
	if rt == nil {
		rt = OSRuntime()
	}
	return &Probe{rt: rt}
}

// Detect never fails. A check that panics or errors only drops the
// capability or detail it was computing.
func (p *Probe) Detect() domain.PlatformDescriptor {
	desc := domain.PlatformDescriptor{
		Type:         domain.PlatformWeb,
		Details:      map[string]string{},
		Capabilities: []string{},
	}

	p.safely("details", func() {
		desc.Details["os"] = p.rt.GOOS()
		desc.Details["arch"] = p.rt.GOARCH()
		desc.Details["go_version"] = p.rt.GoVersion()
	})

	p.safely("classify", func() {
		desc.Type = p.classify(desc.Details)
	})

	p.safely("base capabilities", func() {
		desc.Capabilities = append(desc.Capabilities, p.baseCapabilities()...)
	})

	p.safely("platform capabilities", func() {
		desc.Capabilities = append(desc.Capabilities, p.platformCapabilities(desc.Type)...)
	})

	desc.Capabilities = p.withoutDisabled(desc.Capabilities)
	return desc
}

func (p *Probe) classify(details map[string]string) domain.PlatformType {
	if runtimeName, ok := p.containerRuntime(); ok {
		details["container_runtime"] = runtimeName
		return domain.PlatformContainer
	}
	if shell, ok := p.desktopShell(); ok {
		details["shell"] = shell
		return domain.PlatformDesktop
	}
	if mobileOS, ok := p.mobileOS(); ok {
		details["mobile_os"] = mobileOS
		return domain.PlatformMobile
	}
	if family := browserFamily(p.rt.Getenv(EnvUserAgent)); family != "" {
		details["browser"] = family
	}
	return domain.PlatformWeb
}

func (p *Probe) containerRuntime() (string, bool) {
	if p.rt.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "kubernetes", true
	}
	if p.rt.Exists("/.dockerenv") {
		return "docker", true
	}
	if p.rt.Exists("/run/.containerenv") {
		return "podman", true
	}
	if v := strings.TrimSpace(p.rt.Getenv("container")); v != "" {
		return v, true
	}
	if data, err := p.rt.ReadFile("/proc/1/cgroup"); err == nil {
		cgroup := string(data)
		switch {
		case strings.Contains(cgroup, "kubepods"):
			return "kubernetes", true
		case strings.Contains(cgroup, "docker"):
			return "docker", true
		case strings.Contains(cgroup, "containerd"):
			return "containerd", true
		}
	}
	return "", false
}

func (p *Probe) desktopShell() (string, bool) {
	switch strings.ToLower(p.rt.Getenv(EnvShell)) {
	case "desktop":
		return "native", true
	case "electron":
		return "electron", true
	case "tauri":
		return "tauri", true
	}
	if p.rt.Getenv("ELECTRON_RUN_AS_NODE") != "" || p.rt.Getenv("ELECTRON_NO_ATTACH_CONSOLE") != "" {
		return "electron", true
	}
	if p.rt.Getenv("TAURI_PLATFORM") != "" || p.rt.Getenv("TAURI_ENV_PLATFORM") != "" {
		return "tauri", true
	}
	switch p.rt.GOOS() {
	case "windows", "darwin":
		return "native", true
	case "linux", "freebsd", "openbsd", "netbsd":
		if p.rt.Getenv("WAYLAND_DISPLAY") != "" || p.rt.Getenv("DISPLAY") != "" {
			return "native", true
		}
	}
	return "", false
}

func (p *Probe) mobileOS() (string, bool) {
	switch goos := p.rt.GOOS(); goos {
	case "android", "ios":
		return goos, true
	}
	if strings.EqualFold(p.rt.Getenv(EnvShell), "mobile") {
		return "bridge", true
	}
	return "", false
}

func (p *Probe) baseCapabilities() []string {
	caps := []string{domain.CapabilityWorkers}

	if dir, err := p.rt.UserConfigDir(); err == nil && p.rt.WritableDir(dir) {
		caps = append(caps, domain.CapabilityLocalStorage)
	}

	dataDir := p.rt.Getenv(EnvDataDir)
	if dataDir == "" {
		if dir, err := p.rt.UserCacheDir(); err == nil {
			dataDir = dir
		}
	}
	if dataDir != "" && p.rt.WritableDir(dataDir) {
		caps = append(caps, domain.CapabilityPersistentStorage)
	}

	return caps
}

func (p *Probe) platformCapabilities(t domain.PlatformType) []string {
	switch t {
	case domain.PlatformDesktop:
		var caps []string
		if home, err := p.rt.UserHomeDir(); err == nil && p.rt.Exists(home) {
			caps = append(caps, domain.CapabilityFileSystemAccess)
		}
		return append(caps, domain.CapabilityNativeAPI)
	case domain.PlatformMobile:
		return []string{
			domain.CapabilityCamera,
			domain.CapabilityGeolocation,
			domain.CapabilityPushNotifications,
		}
	case domain.PlatformContainer:
		return []string{domain.CapabilityEphemeralFS}
	}
	return nil
}

func (p *Probe) withoutDisabled(caps []string) []string {
	disabled := map[string]bool{}
	for _, c := range strings.Split(p.rt.Getenv(EnvDisabledCapabilities), ",") {
		if c = strings.TrimSpace(c); c != "" {
			disabled[c] = true
		}
	}

	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if disabled[c] || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func (p *Probe) safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("platform probe: %s skipped: %v", step, r)
		}
	}()
	fn()
}

func browserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "firefox/"):
		return "firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "chromium/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	}
	return "other"
}
