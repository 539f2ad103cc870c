package book

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and compiles the phonebook file at path. Companion media
// referenced by relative path is resolved against the file's directory, and
// data URIs are decoded once into a temporary directory owned by the
// returned book.
func Load(path string) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("book: open %q: %w", path, err)
	}
	defer f.Close()

	b, err := LoadFromReader(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("book: %q: %w", path, err)
	}
	return b, nil
}

// FromString compiles a phonebook from YAML source. Relative media paths
// resolve against the working directory.
func FromString(source string) (*Book, error) {
	return LoadFromReader(strings.NewReader(source), ".")
}

// LoadFromReader decodes a phonebook spec from r, resolving relative media
// paths against dir, and compiles it.
func LoadFromReader(r io.Reader, dir string) (*Book, error) {
	spec := &Spec{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return CompileSpec(spec, dir)
}

// CompileSpec resolves media references in spec and compiles it into a
// [Book], resolving relative media paths against dir. [LoadFromReader]
// calls it after decoding.
func CompileSpec(spec *Spec, dir string) (*Book, error) {
	tempDir, err := resolveMedia(spec, dir)
	if err != nil {
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
		return nil, err
	}

	b, err := Compile(spec)
	if err != nil {
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
		return nil, err
	}
	b.tempDir = tempDir
	return b, nil
}

// resolveMedia rewrites every sound file reference to an absolute path,
// decoding data URIs into a temporary directory. The directory path is
// returned even on error so the caller can clean up.
func resolveMedia(spec *Spec, dir string) (tempDir string, err error) {
	for id, sound := range spec.Sounds {
		if sound == nil || sound.File == "" {
			continue
		}
		if strings.HasPrefix(sound.File, "data:") {
			if tempDir == "" {
				tempDir, err = os.MkdirTemp("", "fernspielapparat-media-")
				if err != nil {
					return "", fmt.Errorf("create media dir: %w", err)
				}
			}
			path, err := decodeDataURI(sound.File, tempDir, id)
			if err != nil {
				return tempDir, fmt.Errorf("sound %q: %w", id, err)
			}
			sound.File = path
			continue
		}
		if !filepath.IsAbs(sound.File) {
			sound.File = filepath.Join(dir, sound.File)
		}
	}
	return tempDir, nil
}

// decodeDataURI writes the payload of a data URI to a file in dir and
// returns its path. Base64 and percent-encoded payloads are supported.
func decodeDataURI(uri, dir, name string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", fmt.Errorf("not a data URI")
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", fmt.Errorf("data URI has no payload")
	}

	var data []byte
	var err error
	if strings.HasSuffix(meta, ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("decode base64 payload: %w", err)
		}
	} else {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return "", fmt.Errorf("decode payload: %w", err)
		}
		data = []byte(decoded)
	}

	path := filepath.Join(dir, name+extensionFor(meta))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write decoded media: %w", err)
	}
	return path, nil
}

// extensionFor guesses a file extension from a data URI media type, for the
// benefit of player backends that sniff by extension.
func extensionFor(meta string) string {
	mediaType, _, _ := strings.Cut(meta, ";")
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/flac":
		return ".flac"
	default:
		return ""
	}
}
