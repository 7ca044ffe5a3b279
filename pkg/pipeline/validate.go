package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"chunkup/pkg/core"
)

// MessageNoSource is the warning text when no source was picked
const MessageNoSource = "A valid file is required."

// Accepts reports whether a source with the given name and media type
// matches one of patterns. A pattern is "*", a media type ("image/png"),
// a media type family ("image/*"), or an extension (".csv").
func Accepts(patterns []string, name, mediaType string) bool {
	if len(patterns) == 0 {
		return true
	}
	mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0]))
	ext := strings.ToLower(filepath.Ext(name))

	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "*" || pattern == "*/*":
			return true
		case strings.HasPrefix(pattern, "."):
			if ext == pattern {
				return true
			}
		case strings.HasSuffix(pattern, "/*"):
			if strings.HasPrefix(mediaType, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case pattern == mediaType:
			return true
		}
	}
	return false
}

// validate checks blob against the configured limits before anything is
// read. Failures are ValidationWarnings.
func (p *Pipeline) validate(blob core.SourceBlob) error {
	if blob == nil {
		return core.Warning(MessageNoSource)
	}
	if limit := p.opts.MaxFileSize; limit > 0 && blob.Size() > limit {
		return core.Warning(fmt.Sprintf("File %s is %s, larger than the %s limit.",
			blob.Name(), humanize.IBytes(uint64(blob.Size())), humanize.IBytes(uint64(limit))))
	}
	if !Accepts(p.opts.AcceptedFileTypes, blob.Name(), blob.MediaType()) {
		return core.Warning(fmt.Sprintf("File %s of type %s is not an accepted file type.",
			blob.Name(), blob.MediaType()))
	}
	return nil
}
