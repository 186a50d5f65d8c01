// Package script exposes Tengo scripts as modules.
//
// Each script file becomes one module whose name is derived from its path
// below the scripts directory: "math/add.tengo" is registered as "math.add".
// A script sees the request through two predeclared globals:
//
//	action   the requested action
//	payload  the request body as a string
//
// and answers by assigning to predeclared globals:
//
//	result = value            success; strings and bytes are returned as-is,
//	                          anything else is JSON encoded
//	error_code = 3            a custom error, optionally with
//	error_name = "quota"      error_name and error_message
//	error_message = "..."
//
// A script that assigns neither reports the action as unknown.
package script
