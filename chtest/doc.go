/*
   Copyright 2020 YANDEX LLC

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

/*
Package chtest provides in-process mock of ClickHouse HTTP interface for testing code built on chhttp.

Mock serves installed handlers in FIFO order, one handler per request:

	mock := chtest.NewMock()
	defer mock.Close()

	cl, _ := chhttp.NewClient(chhttp.WithURL(mock.URL()))

	rec := chtest.RecordDDL()
	mock.Add(rec)
	_ = cl.Query("CREATE TABLE test(no UInt32) ENGINE = Memory").Execute(ctx)
	query, _ := rec.Query(ctx)

	mock.Add(chtest.Provide(row{No: 1}, row{No: 2}))
	rows, _ := chhttp.FetchAll[row](ctx, cl.Query("SELECT ?fields FROM test"))

Request without installed handler is answered with 500 and reported by Close.
*/
package chtest
