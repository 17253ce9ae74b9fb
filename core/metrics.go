// Copyright 2024 The go-twinvault Authors
// This file is part of the go-twinvault library.
//
// The go-twinvault library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-twinvault library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-twinvault library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	metrics "github.com/rcrowley/go-metrics"
)

var (
	queueGauge   = metrics.GetOrRegisterGauge("core/queue/depth", metrics.DefaultRegistry)
	pendingGauge = metrics.GetOrRegisterGauge("core/sync/pending", metrics.DefaultRegistry)

	execMeter     = metrics.GetOrRegisterMeter("core/exec/commands", metrics.DefaultRegistry)
	execFailMeter = metrics.GetOrRegisterMeter("core/exec/failures", metrics.DefaultRegistry)
	skipMeter     = metrics.GetOrRegisterMeter("core/exec/replays", metrics.DefaultRegistry)

	tokenSeizeCounter = metrics.GetOrRegisterCounter("core/token/seizures", metrics.DefaultRegistry)
	tokenPassCounter  = metrics.GetOrRegisterCounter("core/token/passes", metrics.DefaultRegistry)
	syncFailMeter     = metrics.GetOrRegisterMeter("core/sync/failures", metrics.DefaultRegistry)
)
