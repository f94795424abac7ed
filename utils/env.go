package utils

import "errors"

var ErrDatabaseURL = errors.New("DATABASE_URL not set (in .env, environment or config)")
