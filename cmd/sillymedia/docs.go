package main

// General API documentation for swaggo. Build with -tags swagger to serve
// /swagger/.
//
// @title           silly media API
// @version         1.0
// @description     Local image, speech, vision, text, video and music generation behind one GPU.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
