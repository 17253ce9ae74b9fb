// Copyright 2025 The go-twinvault Authors
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

package atm

import (
	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/rmi"
)

// PeerAPI is the coordination surface each peer serves to the other under
// the well-known name "peer".
type PeerAPI interface {
	RequestToken() (bool, error)
	ReceiveSync(logs []*types.Command, passToken bool) (bool, error)
	GetTokenStatus() (bool, error)
}

// PeerService answers the remote coordinator. Handlers return promptly; the
// heavy lifting happens on the emitter and worker goroutines.
type PeerService struct {
	rmi.Object
	coord *core.Coordinator
}

func NewPeerService(coord *core.Coordinator) *PeerService {
	return &PeerService{coord: coord}
}

func (s *PeerService) RemoteInterface() interface{} { return (*PeerAPI)(nil) }

func (s *PeerService) RequestToken() (bool, error) {
	return s.coord.HandleRequestToken(), nil
}

func (s *PeerService) ReceiveSync(logs []*types.Command, passToken bool) (bool, error) {
	return s.coord.HandleReceiveSync(logs, passToken), nil
}

func (s *PeerService) GetTokenStatus() (bool, error) {
	return s.coord.TokenStatus(), nil
}

// peerClient drives the remote peer service; it satisfies core.PeerCaller.
// The stub dials lazily and redials after a dropped connection, so a dead
// peer costs one dial timeout per attempt and surfaces as a ConnError.
type peerClient struct {
	stub *rmi.Stub
}

var _ core.PeerCaller = (*peerClient)(nil)

func newPeerClient(endpoint Endpoint, local *rmi.Registry) (*peerClient, error) {
	remote := rmi.NewRemoteRegistry(endpoint.Host, endpoint.Port, local)
	stub, err := remote.Lookup(PeerServiceName, (*PeerAPI)(nil))
	if err != nil {
		return nil, err
	}
	return &peerClient{stub: stub}, nil
}

func (p *peerClient) RequestToken() (bool, error) {
	res, err := p.stub.Invoke("RequestToken")
	if err != nil {
		return false, err
	}
	granted, _ := res.(bool)
	return granted, nil
}

func (p *peerClient) ReceiveSync(logs []*types.Command, passToken bool) (bool, error) {
	res, err := p.stub.Invoke("ReceiveSync", logs, passToken)
	if err != nil {
		return false, err
	}
	acked, _ := res.(bool)
	return acked, nil
}

func (p *peerClient) GetTokenStatus() (bool, error) {
	res, err := p.stub.Invoke("GetTokenStatus")
	if err != nil {
		return false, err
	}
	held, _ := res.(bool)
	return held, nil
}

func (p *peerClient) Close() error {
	return p.stub.Close()
}
