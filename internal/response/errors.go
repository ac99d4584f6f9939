package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden             ErrCode = "FORBIDDEN"
	ErrParticipantAccessOnly ErrCode = "PARTICIPANT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrConflict         ErrCode = "CONFLICT"
	ErrDependencyExists ErrCode = "DEPENDENCY_EXISTS"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrNoActiveSchedule   ErrCode = "NO_ACTIVE_SCHEDULE"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrNoActiveSession    ErrCode = "NO_ACTIVE_SESSION"
	ErrMaxAttemptsReached ErrCode = "MAX_ATTEMPTS_REACHED"
	ErrInvalidPosition    ErrCode = "INVALID_POSITION"
	ErrResultsNotReleased ErrCode = "RESULTS_NOT_RELEASED"
	ErrGradingConflict    ErrCode = "GRADING_CONFLICT"
	ErrInvalidScore       ErrCode = "INVALID_SCORE"
	ErrScheduleNotEnded   ErrCode = "SCHEDULE_NOT_ENDED"
	ErrInsufficientData   ErrCode = "INSUFFICIENT_DATA"
	ErrInvalidAnswerKey   ErrCode = "INVALID_ANSWER_KEY"
	ErrInvalidSetting     ErrCode = "INVALID_SETTING"

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
		return "Username atau kata sandi salah."
	case ErrSessionInvalidated:
		return "Akun Anda digunakan untuk login di perangkat lain. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrParticipantAccessOnly:
		return "Sumber daya ini terbatas untuk peserta ujian."

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
	case ErrConflict:
		return "Data telah diubah oleh proses lain. Silakan muat ulang."
	case ErrDependencyExists:
		return "Data tidak dapat dihapus karena masih digunakan oleh data lain."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrNoActiveSchedule:
		return "Tidak ada jadwal ujian yang aktif saat ini."
	case ErrNoQuestions:
		return "Jadwal ujian ini belum memiliki soal yang disetujui."
	case ErrNoActiveSession:
		return "Tidak ada sesi ujian yang sedang berlangsung."
	case ErrMaxAttemptsReached:
		return "Batas percobaan ujian untuk jadwal ini telah tercapai."
	case ErrInvalidPosition:
		return "Nomor soal tidak valid."
	case ErrResultsNotReleased:
		return "Hasil ujian belum dirilis."
	case ErrGradingConflict:
		return "Esai ini sudah dinilai oleh penilai lain."
	case ErrInvalidScore:
		return "Nilai harus di antara 0 dan 100."
	case ErrScheduleNotEnded:
		return "Analisis butir soal hanya dapat dijalankan setelah jadwal berakhir."
	case ErrInsufficientData:
		return "Data hasil ujian belum cukup untuk analisis (minimal 10 peserta)."
	case ErrInvalidAnswerKey:
		return "Kunci jawaban pilihan ganda tidak sesuai dengan opsi."
	case ErrInvalidSetting:
		return "Nilai pengaturan tidak valid."

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
