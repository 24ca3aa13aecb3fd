package build

// DeploymentType tells development builds apart from release builds.
type DeploymentType byte

const (
	// Development is selected with the dev build tag. Its loggers include
	// call sites unless configured otherwise.
	Development DeploymentType = iota

	// Production is the default.
	Production
)

// String returns a human readable name for a build type.
func (b DeploymentType) String() string {
	switch b {
	case Development:
		return "development"
	case Production:
		return "production"
	default:
		return "unknown"
	}
}

// IsDevBuild reports whether this binary was built with the dev tag.
func IsDevBuild() bool {
	return Deployment == Development
}

// defaultCallSite is the call site option loggers start out with.
func defaultCallSite() string {
	if IsDevBuild() {
		return callSiteShort
	}

	return callSiteOff
}
