package message

import (
	"crypto/sha256"
	"encoding/hex"
)

// AttachmentHash is the SHA-256 digest of one attachment as sent.
type AttachmentHash struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Size     int    `json:"size_bytes"`
}

// SHA256Hex returns the lower-case hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashAttachments digests every attachment in order.
func HashAttachments(atts []Attachment) []AttachmentHash {
	hashes := make([]AttachmentHash, 0, len(atts))
	for _, a := range atts {
		hashes = append(hashes, AttachmentHash{
			Filename: a.Filename,
			SHA256:   SHA256Hex(a.Content),
			Size:     len(a.Content),
		})
	}
	return hashes
}
