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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

const hashCacheSize = 128

// hashCache memoizes digests per interface type. Interfaces are hashed once
// per process no matter how many stubs and services share them.
var hashCache *lru.Cache

func init() {
	hashCache, _ = lru.New(hashCacheSize)
}

// InterfaceHash computes the signature digest of an interface. The token must
// be a nil pointer to the interface type, e.g. (*UserAPI)(nil). Two sides of
// a connection interoperate iff their digests are equal.
//
// The digest covers the interface name, each exported method name in sorted
// order and each method's textual signature. Method bodies never participate.
func InterfaceHash(ifaceToken interface{}) (string, error) {
	typ, err := interfaceType(ifaceToken)
	if err != nil {
		return "", err
	}
	return interfaceHash(typ)
}

// MustInterfaceHash is InterfaceHash for statically known tokens.
func MustInterfaceHash(ifaceToken interface{}) string {
	h, err := InterfaceHash(ifaceToken)
	if err != nil {
		panic(err)
	}
	return h
}

func interfaceHash(typ reflect.Type) (string, error) {
	if cached, ok := hashCache.Get(typ); ok {
		return cached.(string), nil
	}
	if typ.NumMethod() == 0 {
		return "", fmt.Errorf("interface %s declares no methods", typ)
	}
	names := make([]string, 0, typ.NumMethod())
	sigs := make(map[string]string, typ.NumMethod())
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		names = append(names, m.Name)
		sigs[m.Name] = m.Type.String()
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(typ.Name()))
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(sigs[name]))
	}
	digest := hex.EncodeToString(h.Sum(nil))
	hashCache.Add(typ, digest)
	return digest, nil
}

// interfaceType unwraps a (*Iface)(nil) token into the interface type itself.
func interfaceType(ifaceToken interface{}) (reflect.Type, error) {
	t := reflect.TypeOf(ifaceToken)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Interface {
		return nil, fmt.Errorf("interface token must be a pointer to an interface type, got %T", ifaceToken)
	}
	return t.Elem(), nil
}
