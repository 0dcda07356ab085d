package config

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sngo.config")
