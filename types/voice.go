package types

// VoiceKind tags the variants of a resolved voice choice.
type VoiceKind int

// Voice choice variants. The TTS client dispatches on the tag: catalog
// voices send the vendor voice name, clones attach reference audio, and the
// fallback sends the configured default voice after a failed clone
// resolution.
const (
	VoiceKindCatalog VoiceKind = iota
	VoiceKindClone
	VoiceKindDefaultFallback
)

// VoiceChoice is the resolved voice selection for one synthesis request.
type VoiceChoice struct {
	Kind           VoiceKind
	CatalogID      string // set for VoiceKindCatalog
	ReferencePath  string // set for VoiceKindClone
	FallbackReason string // set for VoiceKindDefaultFallback
}

// CatalogVoice selects a vendor catalog voice by id.
func CatalogVoice(id string) VoiceChoice {
	return VoiceChoice{Kind: VoiceKindCatalog, CatalogID: id}
}

// CloneVoice selects cloning conditioned on the given local reference clip.
func CloneVoice(referencePath string) VoiceChoice {
	return VoiceChoice{Kind: VoiceKindClone, ReferencePath: referencePath}
}

// DefaultFallbackVoice records that the request was downgraded to the
// configured default voice, keeping the reason for the warning log.
func DefaultFallbackVoice(reason string) VoiceChoice {
	return VoiceChoice{Kind: VoiceKindDefaultFallback, FallbackReason: reason}
}
