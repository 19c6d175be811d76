package internal

// Drivers opened through database/sql by the sql and riverqueue publishers.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
