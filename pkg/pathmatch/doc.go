// Package pathmatch compiles request path patterns used to route handler
// queue entries.
//
// A pattern is a slash-delimited directory path, optionally followed by a
// leaf-name glob:
//
//	/              the root only
//	/app/          exactly the /app/ directory
//	/app/*.jsp     .jsp leaves directly under /app/
//	/app//         /app/ and everything beneath it
//	//*.jsp        .jsp leaves at any depth
//	/app/*         extension-less leaves at or beneath /app, including /app
//	               itself and /app/admin/x, but never a directory
//
// In globs "*" matches any run of characters other than "/" and "?" matches
// exactly one such character. The matching rules are a compatibility surface
// for every registered route and must not drift. The bare "*" leaf only
// requires the directory as a prefix, so "/*" accepts "/app/x" as well:
//
//	pattern   /   /app  /app/  /app/index.jsp  /app/admin/  /app/admin/index.jsp
//	/         o   x     x      x               x            x
//	/app/*    x   o     x      x               x            x
//	/app/     x   x     o      x               x            x
//	/app//    x   x     o      o               o            o
//	//*.jsp   x   x     x      o               x            o
package pathmatch
