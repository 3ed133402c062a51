// Copyright 1999-2020 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

// ResourceType classifies the kind of operation a resource represents.
type ResourceType int32

const (
	ResTypeCommon ResourceType = iota
	ResTypeWeb
	ResTypeRPC
	ResTypeAPIGateway
	ResTypeDBSQL
)

func (t ResourceType) String() string {
	switch t {
	case ResTypeWeb:
		return "web"
	case ResTypeRPC:
		return "rpc"
	case ResTypeAPIGateway:
		return "api-gateway"
	case ResTypeDBSQL:
		return "db-sql"
	default:
		return "common"
	}
}

// TrafficType is the direction of a resource invocation.
type TrafficType int32

const (
	Inbound TrafficType = iota
	Outbound
)

func (t TrafficType) String() string {
	if t == Outbound {
		return "outbound"
	}
	return "inbound"
}

// ResourceWrapper identifies a guarded operation. Equality between two
// resources is by Name only, per the data model: the classification and
// flow type are metadata riding along with the name, not part of identity.
type ResourceWrapper struct {
	name           string
	classification ResourceType
	flowType       TrafficType
}

func NewResourceWrapper(name string, classification ResourceType, flowType TrafficType) *ResourceWrapper {
	return &ResourceWrapper{name: name, classification: classification, flowType: flowType}
}

func (r *ResourceWrapper) Name() string {
	return r.name
}

func (r *ResourceWrapper) Classification() ResourceType {
	return r.classification
}

func (r *ResourceWrapper) FlowType() TrafficType {
	return r.flowType
}

func (r *ResourceWrapper) String() string {
	return r.name
}
