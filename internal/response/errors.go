package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrNotEnrolled       ErrCode = "NOT_ENROLLED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotFound      ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamNotPublished  ErrCode = "EXAM_NOT_PUBLISHED"
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrTimeExpired       ErrCode = "TIME_EXPIRED"
	ErrSessionNotFound   ErrCode = "SESSION_NOT_FOUND"
	ErrSessionSubmitted  ErrCode = "SESSION_ALREADY_SUBMITTED"
	ErrIndexOutOfRange   ErrCode = "QUESTION_INDEX_OUT_OF_RANGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "NISN atau kata sandi salah."
	case ErrSessionActive:
		return "Anda sudah memulai ujian ini di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrNotEnrolled:
		return "Anda tidak terdaftar sebagai peserta ujian ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrExamNotPublished:
		return "Ujian ini belum dipublikasikan."
	case ErrInvalidEntryToken:
		return "Kata sandi ujian tidak valid."
	case ErrTimeExpired:
		return "Waktu ujian telah habis."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrSessionSubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrIndexOutOfRange:
		return "Nomor soal di luar jangkauan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
