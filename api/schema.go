// Copyright 2024 The Armored Witness OS authors. All Rights Reserved.
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

package api

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// schema mirrors api.proto, keep both in sync.
var schema = &descriptorpb.FileDescriptorProto{
	Name:    proto.String("api/api.proto"),
	Package: proto.String("spm"),
	Syntax:  proto.String("proto3"),
	Options: &descriptorpb.FileOptions{
		GoPackage: proto.String("github.com/transparency-dev/armored-witness-spm/api"),
	},
	MessageType: []*descriptorpb.DescriptorProto{
		{
			Name: proto.String("Area"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("memory", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("base", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
				field("limit", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
				field("attribution", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("locked", 5, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
			},
		},
		{
			Name: proto.String("Status"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("version", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("revision", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("build", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("debug", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("sealed", 5, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				{
					Name:     proto.String("areas"),
					Number:   proto.Int32(6),
					Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
					TypeName: proto.String(".spm.Area"),
				},
				{
					Name:   proto.String("peripherals"),
					Number: proto.Int32(7),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_UINT32.Enum(),
				},
				field("operations", 8, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
				field("violations", 9, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
			},
		},
	},
}

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

var (
	areaDesc   protoreflect.MessageDescriptor
	statusDesc protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(schema, nil)

	if err != nil {
		panic(err)
	}

	areaDesc = fd.Messages().ByName("Area")
	statusDesc = fd.Messages().ByName("Status")
}
