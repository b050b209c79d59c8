package scan

import "regexp"

// Wire-level payload shapes from the badge printer. Anything else coming off
// the decoder is inert input.
var (
	studentIDPattern = regexp.MustCompile(`^S\d{8}$`)
	signaturePattern = regexp.MustCompile(`^US\d{6}P$`)
)

// ValidStudentID reports whether payload is a student ID barcode: "S"
// followed by exactly eight digits.
func ValidStudentID(payload string) bool { return studentIDPattern.MatchString(payload) }

// ValidSignature reports whether payload is a signature barcode: "US", six
// digits, "P".
func ValidSignature(payload string) bool { return signaturePattern.MatchString(payload) }
