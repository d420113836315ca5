// Package all registers every storage backend. Import for side effects:
//
//	import _ "movietl/internal/storage/all"
package all

import (
	_ "movietl/internal/storage/mssql"
	_ "movietl/internal/storage/postgres"
	_ "movietl/internal/storage/sqlite"
)
