// Package all registers every storage backend with the factory. Commands
// blank-import it so config alone selects the backend; engine packages never
// import it, keeping drivers out of library builds.
package all

import (
	_ "lienharvest/internal/storage/mssql"
	_ "lienharvest/internal/storage/postgres"
	_ "lienharvest/internal/storage/sqlite"
)
