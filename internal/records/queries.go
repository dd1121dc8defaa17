package records

// Fixed SQL templates. User input travels only through positional
// parameters; the history WHERE clause is composed from the closed fragment
// enum in history.go.
const (
	checkPatientQuery = `SELECT 1 FROM Patients WHERE PatientId = ?`

	insertPatientQuery = `INSERT INTO Patients (PatientId, FirstName, LastName, Sex) VALUES (?, ?, ?, ?)`

	getPatientQuery = `SELECT PatientId, FirstName, LastName, Sex FROM Patients WHERE PatientId = ?`

	findPatientsByNameQuery = `SELECT PatientId, FirstName, LastName, Sex
FROM Patients
WHERE LOWER(FirstName) = LOWER(?) AND LOWER(LastName) = LOWER(?)
ORDER BY PatientId`

	insertMeasurementQuery = `INSERT INTO Measurements
(PatientId, LoincNum, Value, Unit, ValidStartTime, TransactionInsertionTime, TransactionDeletionTime)
VALUES (?, ?, ?, ?, ?, ?, NULL)`

	// A lineage row visible at the snapshot (last two params).
	checkVisibleRecordQuery = `SELECT 1 FROM Measurements
WHERE PatientId = ? AND LoincNum = ? AND ValidStartTime = ?
  AND TransactionInsertionTime <= ?
  AND (TransactionDeletionTime IS NULL OR TransactionDeletionTime > ?)`

	// The earliest lineage row recorded after the given transaction time.
	// Non-empty means the caller is trying to rewrite history behind a
	// newer version.
	futureRecordQuery = `SELECT MIN(TransactionInsertionTime) FROM Measurements
WHERE PatientId = ? AND LoincNum = ? AND ValidStartTime = ?
  AND TransactionInsertionTime > ?`

	// Units are sticky across updates; take the latest recorded one.
	existingUnitQuery = `SELECT Unit FROM Measurements
WHERE PatientId = ? AND LoincNum = ? AND ValidStartTime = ?
ORDER BY TransactionInsertionTime DESC
LIMIT 1`

	// Close the lineage: stamp the deletion time on rows still open (or
	// closed later than the new transaction time).
	stampDeletionQuery = `UPDATE Measurements
SET TransactionDeletionTime = ?
WHERE PatientId = ? AND LoincNum = ? AND ValidStartTime = ?
  AND (TransactionDeletionTime IS NULL OR TransactionDeletionTime > ?)`

	// Latest valid-start on a given day, among rows visible at the snapshot.
	latestValidTimeForDayQuery = `SELECT MAX(ValidStartTime) FROM Measurements
WHERE PatientId = ? AND LoincNum = ?
  AND substr(ValidStartTime, 1, 10) = ?
  AND TransactionInsertionTime <= ?
  AND (TransactionDeletionTime IS NULL OR TransactionDeletionTime > ?)`

	// Component resolution scoped to one day of the patient's visible
	// history, for date-only deletes addressed by component name.
	codesByComponentForDayQuery = `SELECT DISTINCT m.LoincNum
FROM Measurements m
JOIN Loinc l ON l.LoincNum = m.LoincNum
WHERE LOWER(l.Component) = LOWER(?)
  AND m.PatientId = ?
  AND substr(m.ValidStartTime, 1, 10) = ?
  AND m.TransactionInsertionTime <= ?
  AND (m.TransactionDeletionTime IS NULL OR m.TransactionDeletionTime > ?)
ORDER BY m.LoincNum`

	// History SELECT joined with LOINC for display; the WHERE clause is
	// composed from the fixed filter fragments.
	historyBaseQuery = `SELECT m.LoincNum, l.Component, m.Value, m.Unit, m.ValidStartTime, m.TransactionInsertionTime
FROM Measurements m
JOIN Loinc l ON l.LoincNum = m.LoincNum
WHERE %s
ORDER BY m.ValidStartTime, m.TransactionInsertionTime`
)
