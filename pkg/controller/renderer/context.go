// Copyright 2025 Philipp Hossner
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

package renderer

import (
	"reflect"
	"strings"

	"nginx-reconciler/pkg/configuration"
)

// buildRenderingContext turns the model into the maps and slices the
// template engine works with and adds the rendering flags.
//
// Struct fields are keyed by their json name. Integers become int64 so that
// they render without a fraction, nil slices become empty lists and nil
// pointers stay nil.
//
//	{
//	  "global": {...}, "servers": [...], "upstreams": [...], ...
//	  "ipv6": false, "snippets_enabled": false, "dynamic_ssl": false,
//	  "cert_paths": {"default_cafe.pem": "/etc/nginx/secrets/default_cafe.pem"},
//	}
func (r *Renderer) buildRenderingContext(model *configuration.Model) map[string]interface{} {
	ctx, _ := toValue(reflect.ValueOf(*model)).(map[string]interface{})

	certPaths := make(map[string]interface{}, len(model.Certificates))
	for _, cert := range model.Certificates {
		certPaths[cert.Name] = r.certificatePath(cert)
	}

	ctx["ipv6"] = r.opts.EnableIPv6
	ctx["snippets_enabled"] = r.opts.EnableSnippets
	ctx["dynamic_ssl"] = r.opts.EnableDynamicSSLReload
	ctx["plus"] = r.opts.Plus
	ctx["status_port"] = int64(r.opts.StatusPort)
	ctx["passthrough_socket"] = r.opts.PassthroughSocket
	ctx["stream_enabled"] = model.Global.TLSPassthrough || len(model.StreamServers) > 0
	ctx["cert_paths"] = certPaths

	return ctx
}

// certificatePath returns the path a server loads cert from. Certificates
// that can be swapped without a reload are loaded through a variable, which
// makes NGINX read the file on every handshake.
func (r *Renderer) certificatePath(cert configuration.Certificate) string {
	if r.opts.EnableDynamicSSLReload && cert.Dynamic {
		return "$secret_dir_path/" + cert.Name
	}
	path, _ := r.resolver.GetPath(cert.Name, "secret")
	s, _ := path.(string)
	return s
}

func toValue(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return toValue(v.Elem())

	case reflect.Struct:
		t := v.Type()
		out := make(map[string]interface{}, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name := jsonName(field)
			if name == "" {
				continue
			}
			out[name] = toValue(v.Field(i))
		}
		return out

	case reflect.Slice, reflect.Array:
		out := make([]interface{}, v.Len())
		for i := range out {
			out[i] = toValue(v.Index(i))
		}
		return out

	case reflect.Map:
		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = toValue(iter.Value())
		}
		return out

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())

	default:
		return v.Interface()
	}
}

// jsonName returns the json key of an exported field, or "" for fields that
// are not part of the context.
func jsonName(field reflect.StructField) string {
	if !field.IsExported() {
		return ""
	}
	tag := field.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}
