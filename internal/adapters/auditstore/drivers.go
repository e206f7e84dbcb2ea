package auditstore

import (
	// Database drivers for the supported dialects.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)
