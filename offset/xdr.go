// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import (
	"bytes"
	"io"

	"github.com/calmh/xdr"
)

// These Encode/Decode methods give Found, FoundChain, and Context a
// stable on-disk XDR encoding for package store, hand-written once in
// the shape xdrgen would otherwise generate (the generator itself is
// build tooling, not a runtime dependency of this module).

func (o Found) EncodeXDR(w io.Writer) (int, error) {
	xw := xdr.NewWriter(w)
	return o.encodeXDR(xw)
}

func (o Found) MarshalXDR() []byte {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	o.encodeXDR(xw)
	return buf.Bytes()
}

func (o Found) encodeXDR(xw *xdr.Writer) (int, error) {
	xw.WriteString(o.Name)
	xw.WriteUint64(o.Value)
	xw.WriteString(o.ELF)
	return xw.Tot(), xw.Error()
}

func (o *Found) DecodeXDR(r io.Reader) error {
	xr := xdr.NewReader(r)
	return o.decodeXDR(xr)
}

func (o *Found) UnmarshalXDR(bs []byte) error {
	buf := bytes.NewBuffer(bs)
	xr := xdr.NewReader(buf)
	return o.decodeXDR(xr)
}

func (o *Found) decodeXDR(xr *xdr.Reader) error {
	o.Name = xr.ReadString()
	o.Value = xr.ReadUint64()
	o.ELF = xr.ReadString()
	return xr.Error()
}

func (o FoundChain) EncodeXDR(w io.Writer) (int, error) {
	xw := xdr.NewWriter(w)
	return o.encodeXDR(xw)
}

func (o FoundChain) MarshalXDR() []byte {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	o.encodeXDR(xw)
	return buf.Bytes()
}

func (o FoundChain) encodeXDR(xw *xdr.Writer) (int, error) {
	xw.WriteString(o.Name)
	xw.WriteUint32(uint32(len(o.Offsets)))
	for i := range o.Offsets {
		o.Offsets[i].encodeXDR(xw)
	}
	return xw.Tot(), xw.Error()
}

func (o *FoundChain) DecodeXDR(r io.Reader) error {
	xr := xdr.NewReader(r)
	return o.decodeXDR(xr)
}

func (o *FoundChain) UnmarshalXDR(bs []byte) error {
	buf := bytes.NewBuffer(bs)
	xr := xdr.NewReader(buf)
	return o.decodeXDR(xr)
}

func (o *FoundChain) decodeXDR(xr *xdr.Reader) error {
	o.Name = xr.ReadString()
	n := int(xr.ReadUint32())
	o.Offsets = make([]Found, n)
	for i := range o.Offsets {
		(&o.Offsets[i]).decodeXDR(xr)
	}
	return xr.Error()
}

func (o Context) EncodeXDR(w io.Writer) (int, error) {
	xw := xdr.NewWriter(w)
	return o.encodeXDR(xw)
}

func (o Context) MarshalXDR() []byte {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	o.encodeXDR(xw)
	return buf.Bytes()
}

func (o Context) encodeXDR(xw *xdr.Writer) (int, error) {
	xw.WriteUint32(uint32(len(o.General)))
	for i := range o.General {
		o.General[i].encodeXDR(xw)
	}
	xw.WriteUint32(uint32(len(o.Chains)))
	for i := range o.Chains {
		o.Chains[i].encodeXDR(xw)
	}
	return xw.Tot(), xw.Error()
}

func (o *Context) DecodeXDR(r io.Reader) error {
	xr := xdr.NewReader(r)
	return o.decodeXDR(xr)
}

func (o *Context) UnmarshalXDR(bs []byte) error {
	buf := bytes.NewBuffer(bs)
	xr := xdr.NewReader(buf)
	return o.decodeXDR(xr)
}

func (o *Context) decodeXDR(xr *xdr.Reader) error {
	n := int(xr.ReadUint32())
	o.General = make([]Found, n)
	for i := range o.General {
		(&o.General[i]).decodeXDR(xr)
	}
	n = int(xr.ReadUint32())
	o.Chains = make([]FoundChain, n)
	for i := range o.Chains {
		(&o.Chains[i]).decodeXDR(xr)
	}
	return xr.Error()
}
