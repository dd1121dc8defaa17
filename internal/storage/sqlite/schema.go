package sqlite

// Persistence schema. All datetime columns hold 'YYYY-MM-DD HH:MM:SS'
// naive-local strings and compare lexically.
const schema = `
-- Patients table
CREATE TABLE IF NOT EXISTS Patients (
    PatientId TEXT PRIMARY KEY,
    FirstName TEXT NOT NULL,
    LastName  TEXT NOT NULL,
    Sex       TEXT NOT NULL CHECK(Sex IN ('Male', 'Female'))
);

-- LOINC dictionary, loaded once by the bootstrap collaborator
CREATE TABLE IF NOT EXISTS Loinc (
    LoincNum      TEXT PRIMARY KEY,
    Component     TEXT NOT NULL,
    Property      TEXT NOT NULL DEFAULT '',
    TimeAspect    TEXT NOT NULL DEFAULT '',
    System        TEXT NOT NULL DEFAULT '',
    ScaleType     TEXT NOT NULL DEFAULT '',
    MethodType    TEXT NOT NULL DEFAULT '',
    AllowedValues TEXT
);

CREATE INDEX IF NOT EXISTS idx_loinc_component ON Loinc(Component);

-- Raw bi-temporal measurements. Rows are only ever logically deleted by
-- stamping TransactionDeletionTime.
CREATE TABLE IF NOT EXISTS Measurements (
    MeasurementId            INTEGER PRIMARY KEY AUTOINCREMENT,
    PatientId                TEXT NOT NULL REFERENCES Patients(PatientId),
    LoincNum                 TEXT NOT NULL REFERENCES Loinc(LoincNum),
    Value                    TEXT NOT NULL,
    Unit                     TEXT NOT NULL DEFAULT '',
    ValidStartTime           TEXT NOT NULL,
    TransactionInsertionTime TEXT NOT NULL,
    TransactionDeletionTime  TEXT,
    CHECK (ValidStartTime <= TransactionInsertionTime),
    CHECK (TransactionDeletionTime IS NULL OR TransactionDeletionTime > TransactionInsertionTime),
    UNIQUE (PatientId, LoincNum, ValidStartTime, TransactionInsertionTime)
);

CREATE INDEX IF NOT EXISTS idx_measurements_patient ON Measurements(PatientId);
CREATE INDEX IF NOT EXISTS idx_measurements_lineage
    ON Measurements(PatientId, LoincNum, ValidStartTime);

-- Derived intervals; truncated and rebuilt on every abstraction run.
CREATE TABLE IF NOT EXISTS AbstractedMeasurements (
    PatientId     TEXT NOT NULL,
    LoincCode     TEXT NOT NULL,
    ConceptName   TEXT NOT NULL,
    Value         TEXT NOT NULL,
    StartDateTime TEXT NOT NULL,
    EndDateTime   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_abstracted_patient ON AbstractedMeasurements(PatientId);
`
