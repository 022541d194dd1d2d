package logger

// Standard field keys for structured logging. Use these consistently so
// run logs can be aggregated and queried by run, record, and team.
const (
	KeyRunID     = "run_id"     // provisioning run identifier
	KeyCSVFile   = "csv_file"   // input CSV path
	KeyOperation = "operation"  // planned operation type
	KeyRecordUID = "record_uid" // vault record identifier
	KeyTeamUID   = "team_uid"   // vault team identifier
	KeyTeamName  = "team_name"  // team display name
	KeyFolderUID = "folder_uid" // backend folder identifier
	KeyFolderKey = "folder_key" // logical folder path key
	KeyRow       = "row"        // 1-based CSV line number
	KeyAttempt   = "attempt"    // retry attempt number
	KeyError     = "error"      // error message
	KeyDuration  = "duration"   // elapsed time
	KeyCount     = "count"      // generic count
)
