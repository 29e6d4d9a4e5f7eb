// Package weather fetches sensor readings from Home Assistant and period
// forecasts from a weather.gov style endpoint, and formats them for the mesh.
//
// Every upstream call goes through a circuit breaker. There are no retries:
// a failed or rejected call fails the current job run or command, and the
// next scheduled run tries again.
package weather
