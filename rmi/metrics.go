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

package rmi

import "github.com/rcrowley/go-metrics"

var (
	callMeter      = metrics.GetOrRegisterMeter("rmi/calls", nil)
	callErrorMeter = metrics.GetOrRegisterMeter("rmi/errors", nil)
	servedCounter  = metrics.GetOrRegisterCounter("rmi/conns", nil)
	dialMeter      = metrics.GetOrRegisterMeter("rmi/dials", nil)
)
