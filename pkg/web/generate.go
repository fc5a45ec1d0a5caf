package web

//go:generate sh -c "test -d static/src && go tool esbuild static/src/app.ts --bundle --outfile=static/app.js --target=es2020 || echo 'Skipping TypeScript compilation (no static/src directory)'"
