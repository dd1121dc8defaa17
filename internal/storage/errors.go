package storage

import "errors"

// Sentinel errors for caller-discriminable failure kinds. Callers branch on
// these with errors.Is, never on message text.
var (
	// ErrPatientNotFound indicates the PatientId is absent from the Patients table.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrLoincNotFound indicates the LoincNum is absent from the LOINC dictionary.
	ErrLoincNotFound = errors.New("LOINC code not found")

	// ErrUnknownComponent indicates a component name resolved to no LOINC code
	// in the applicable scope (dictionary for inserts, patient history for
	// updates and deletes).
	ErrUnknownComponent = errors.New("unknown component")

	// ErrAmbiguousComponent indicates a component name resolved to more than
	// one LOINC code, so the caller must supply the exact code.
	ErrAmbiguousComponent = errors.New("ambiguous component")

	// ErrLoincMismatch indicates an explicit LOINC code and component name
	// disagree with each other.
	ErrLoincMismatch = errors.New("LOINC code and component mismatch")

	// ErrRecordNotFound indicates no measurement row for the requested
	// (patient, loinc, valid-start) key is visible at the requested snapshot.
	ErrRecordNotFound = errors.New("measurement record not found")

	// ErrDuplicateInsert indicates an insert would collide with a row already
	// visible at the transaction time; the caller should update instead.
	ErrDuplicateInsert = errors.New("record already exists, use update")

	// ErrStaleUpdate indicates an update or delete behind an already-recorded
	// newer transaction on the same valid-time lineage.
	ErrStaleUpdate = errors.New("newer version of record exists")

	// ErrAlreadyExists indicates the patient id is already registered.
	ErrAlreadyExists = errors.New("patient already registered")
)
