package useragent

import (
	"fmt"
	"runtime"

	"github.com/withregard/regard-go/pkg/version"
)

// Header is the User-Agent sent with every batch.
var Header = fmt.Sprintf("regard-go/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)
