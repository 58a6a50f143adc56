package interfaces

import (
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// DefaultCollectionName is the collection new resources belong to unless set otherwise.
const DefaultCollectionName = "persistent"

// ProtectionState tracks whether a Resource may still be modified.
type ProtectionState int

const (
	// Mutable resources accept setter calls.
	Mutable ProtectionState = iota
	// Protected resources have been persisted or published and reject all modification.
	Protected
)

// String returns state name.
func (s ProtectionState) String() string {
	switch s {
	case Mutable:
		return "mutable"
	case Protected:
		return "protected"
	default:
		return "unknown"
	}
}

// Resource is the metadata record of a stored payload. It references the
// bytes by content hash and belongs to exactly one collection.
type Resource struct {
	identifier              string
	sha1                    ContentHash
	md5                     string
	filename                string
	mediaType               string
	fileSize                int64
	collectionName          string
	relativePublicationPath string
	state                   ProtectionState
}

// NewResource returns a mutable resource in the default collection with a
// fresh random identifier.
func NewResource() *Resource {
	return &Resource{
		identifier:     uuid.NewString(),
		collectionName: DefaultCollectionName,
	}
}

// Identifier distinguishes resources that share content and filename.
func (r *Resource) Identifier() string {
	return r.identifier
}

// SameAs reports whether r and other denote the same resource. Repositories
// may hand out distinct values for one stored resource.
func (r *Resource) SameAs(other *Resource) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r == other || (r.identifier != "" && r.identifier == other.identifier)
}

// Protect moves the resource into the Protected state. There is no way back.
func (r *Resource) Protect() {
	r.state = Protected
}

// IsProtected reports whether the resource rejects modification.
func (r *Resource) IsProtected() bool {
	return r.state == Protected
}

// State returns the current protection state.
func (r *Resource) State() ProtectionState {
	return r.state
}

func (r *Resource) checkMutable() error {
	if r.state == Protected {
		return fmt.Errorf("%w: tried to modify resource %s after it has been persisted or published", ErrProtectedEntity, r.sha1)
	}
	return nil
}

// URI returns the resource:// locator other subsystems use for read access.
func (r *Resource) URI() string {
	return "resource://" + string(r.sha1)
}

func (r *Resource) Sha1() ContentHash {
	return r.sha1
}

// SetSha1 sets the content hash. The hash must be 40 hex characters and
// cannot be changed once set.
func (r *Resource) SetSha1(hash string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	h, err := NewContentHashFromHex(hash)
	if err != nil {
		return err
	}
	if r.sha1 != "" && r.sha1 != h {
		return fmt.Errorf("%w: content hash of resource is already %s", ErrProtectedEntity, r.sha1)
	}
	r.sha1 = h
	return nil
}

func (r *Resource) Md5() string {
	return r.md5
}

// SetMd5 sets the secondary hash. The hash must be 32 hex characters.
func (r *Resource) SetMd5(hash string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if len(hash) != 32 {
		return fmt.Errorf("%w: md5 must be 32 hex characters, got %d", ErrInvalidArgument, len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("%w: invalid hex format: %v", ErrInvalidArgument, err)
	}
	r.md5 = strings.ToLower(hash)
	return nil
}

// Filename returns the display name, or "<sha1>.bin" if none was set.
func (r *Resource) Filename() string {
	if r.filename == "" {
		return string(r.sha1) + ".bin"
	}
	return r.filename
}

func (r *Resource) SetFilename(filename string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.filename = filename
	return nil
}

// FileExtension returns the filename extension without the dot.
func (r *Resource) FileExtension() string {
	return strings.TrimPrefix(path.Ext(r.filename), ".")
}

// MediaType returns the explicitly set media type, or one derived from the filename.
func (r *Resource) MediaType() string {
	if r.mediaType != "" {
		return r.mediaType
	}
	return MediaTypeFromFilename(r.filename)
}

func (r *Resource) SetMediaType(mediaType string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.mediaType = mediaType
	return nil
}

func (r *Resource) FileSize() int64 {
	return r.fileSize
}

func (r *Resource) SetFileSize(size int64) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("%w: negative file size %d", ErrInvalidArgument, size)
	}
	r.fileSize = size
	return nil
}

func (r *Resource) CollectionName() string {
	return r.collectionName
}

func (r *Resource) SetCollectionName(name string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.collectionName = name
	return nil
}

// RelativePublicationPath is a hint for the directory structure a Target publishes to.
func (r *Resource) RelativePublicationPath() string {
	return r.relativePublicationPath
}

func (r *Resource) SetRelativePublicationPath(p string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.relativePublicationPath = p
	return nil
}

// String returns the content hash.
func (r *Resource) String() string {
	return string(r.sha1)
}

// ResourceRecord is the flat, persistable form of a Resource. Filename and
// MediaType hold the explicitly set values, not the derived defaults.
type ResourceRecord struct {
	Identifier              string
	Sha1                    string
	Md5                     string
	Filename                string
	MediaType               string
	FileSize                int64
	CollectionName          string
	RelativePublicationPath string
	Protected               bool
}

// Record returns the persistable fields of r.
func (r *Resource) Record() ResourceRecord {
	return ResourceRecord{
		Identifier:              r.identifier,
		Sha1:                    string(r.sha1),
		Md5:                     r.md5,
		Filename:                r.filename,
		MediaType:               r.mediaType,
		FileSize:                r.fileSize,
		CollectionName:          r.collectionName,
		RelativePublicationPath: r.relativePublicationPath,
		Protected:               r.state == Protected,
	}
}

// ResourceFromRecord restores a resource loaded from a repository. Hashes are
// validated the same way the setters validate them.
func ResourceFromRecord(rec ResourceRecord) (*Resource, error) {
	if rec.Identifier == "" {
		return nil, fmt.Errorf("%w: resource record without identifier", ErrInvalidArgument)
	}
	r := &Resource{identifier: rec.Identifier}
	if err := r.SetSha1(rec.Sha1); err != nil {
		return nil, err
	}
	if rec.Md5 != "" {
		if err := r.SetMd5(rec.Md5); err != nil {
			return nil, err
		}
	}
	if err := r.SetFileSize(rec.FileSize); err != nil {
		return nil, err
	}
	r.filename = rec.Filename
	r.mediaType = rec.MediaType
	r.collectionName = rec.CollectionName
	r.relativePublicationPath = rec.RelativePublicationPath
	if rec.Protected {
		r.Protect()
	}
	return r, nil
}

// MediaTypeFromFilename guesses the media type from the filename extension.
// Unknown extensions yield application/octet-stream.
func MediaTypeFromFilename(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return "application/octet-stream"
	}
	typ := mime.TypeByExtension(ext)
	if typ == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(typ)
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
