package main

import (
	"github.com/peter-kozarec/roundtrip/pkg/middleware"
)

const (
	Version      = "0.3.0"
	MonitorFlags = middleware.MonitorPartitions | middleware.MonitorOpenPositions | middleware.MonitorFailures
)
