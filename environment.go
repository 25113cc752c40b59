package webcodecs

// Environment names one of the runtimes this package can be asked to defer
// to instead of driving a native backend itself. Go has no
// browser host to check against at runtime, so HostNative only ever applies
// when a caller explicitly vouches for one (e.g. a WASM build embedding this
// package alongside a real browser WebCodecs implementation it wants to
// prefer).
type Environment int

const (
	// EnvironmentPolyfill always drives the purego-backed native codecs in
	// this package. This is the default.
	EnvironmentPolyfill Environment = iota
	// EnvironmentHostNative makes the Is*ConfigSupported functions ask a
	// HostCodecProvider the caller installs first, falling back to the
	// bundled backends' availability when the host reports a configuration
	// unsupported. Configure, Decode and Encode still drive the bundled
	// purego backends; no codec work is handed to the host.
	EnvironmentHostNative
)

// HostCodecProvider is implemented by an embedder that has a faster or more
// complete native codec path available (e.g. a platform media framework)
// and wants this package's state machines to prefer it over the bundled
// purego backends.
type HostCodecProvider interface {
	SupportsVideoConfig(codec VideoCodec, cfg VideoDecoderConfig, forEncoder bool) bool
	SupportsAudioConfig(codec AudioCodec, cfg AudioDecoderConfig, forEncoder bool) bool
}

var (
	currentEnvironment = EnvironmentPolyfill
	hostProvider       HostCodecProvider
)

// SetEnvironment selects which environment the Is*ConfigSupported functions
// consult first. provider may be nil when switching back to
// EnvironmentPolyfill.
func SetEnvironment(env Environment, provider HostCodecProvider) {
	currentEnvironment = env
	hostProvider = provider
}

// environmentPrefersHostVideo reports whether the host provider should be tried
// before falling back to the bundled native backend for a video
// configuration.
func environmentPrefersHostVideo(codec VideoCodec, cfg VideoDecoderConfig, forEncoder bool) bool {
	return currentEnvironment == EnvironmentHostNative && hostProvider != nil && hostProvider.SupportsVideoConfig(codec, cfg, forEncoder)
}

func environmentPrefersHostAudio(codec AudioCodec, cfg AudioDecoderConfig, forEncoder bool) bool {
	return currentEnvironment == EnvironmentHostNative && hostProvider != nil && hostProvider.SupportsAudioConfig(codec, cfg, forEncoder)
}
